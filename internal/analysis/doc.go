// Package analysis works on recorded runs: it extracts named series from
// snapshots, summarises them and estimates their spectrum.
//
// The chain pulses once per floater passing the injection zone, so the
// dominant frequency of chain velocity is the pulse rate:
//
//	v, _ := analysis.Extract(snaps, "chain.velocity")
//	sp := analysis.PowerSpectrum(v, dt)
//	f := sp.Dominant()
package analysis
