// Package viz renders the plant in the terminal and as SVG.
//
// [Model] is a Bubble Tea dashboard that drives an engine directly: the
// chain loop is drawn on a braille [Canvas] with air-filled floaters as
// solid discs, next to live readings, thermal gauges, active faults and an
// asciigraph power trace.
//
// # Key Bindings
//
//	Space - Pause/Resume stepping
//	s x a - Start, stop, acknowledge
//	r     - Reset the plant
//	o g   - Inject overspeed, toggle grid sag
//	+ -   - Steps per frame
//	t     - Cycle themes
package viz
