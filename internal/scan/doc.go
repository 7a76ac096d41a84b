// Package scan holds the vocabulary shared by the acquisition pipeline:
// channels, scanlines, frame formats and parameters, and the error kinds
// that travel between the transport, the corrector, the producer and the
// assembler.
//
// The pipeline itself lives in the subpackages, leaves first:
//
//	linedist  - re-times channel-tagged scanlines across sensor offsets
//	frame     - packages aligned rows into frames behind a pull Read
//	acquire   - the session: pass sequencing, cancellation, frontend API
//	assemble  - turns the frame stream into one finished raster
//	sink      - PNM and TIFF writers for the finished raster
//	transport - serial and simulated devices
package scan
