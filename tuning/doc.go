// Package tuning implements the closed-loop exposure tuner: given the
// photometric statistics of the last captured frame and per-property target
// bands, it adjusts at most one hardware control per tracked property per
// cycle using a damped, non-linear delta law.
//
// The loop is strictly one cycle delayed. Settings computed from frame N are
// applied during frame N+1's capture, never to the frame they were measured
// from.
//
// All rotation and target state lives in a State value owned by the caller;
// the package keeps no globals. The random source used for step-size capping
// is injectable so tests can pin it.
package tuning
