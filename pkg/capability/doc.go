// Package capability provides scan.Provider implementations: a scripted
// Mock for tests, a Simulator that emits a face on a timer, and a Camera provider that runs a face detector over frames
// from a FrameSource.
package capability
