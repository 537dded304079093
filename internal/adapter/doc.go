// Package adapter enumerates candidate radio devices for a roster pass.
//
// Each CandidateScanner returns opaque device identifiers: serial port
// names, Bluetooth hardware addresses or network hosts. The identifiers are
// validated later by the engine; scanners never decide reachability.
//
// # Scanners
//
// SerialScanner lists local serial ports through go.bug.st/serial.
//
// MDNSScanner browses for _meshtastic._tcp advertisements on the local link
// and reports each responder as ip:port.
//
// NmapScanner sweeps configured CIDR ranges for the mesh TCP API port.
//
// StaticScanner returns a configured list unchanged.
//
// MultiScanner runs several scanners in order, logs and skips the ones that
// fail, and removes duplicates while keeping first-seen order.
//
// SerialPortChecker is not a scanner. It opens and closes a port to prove
// it is usable and backs the validator's serial liveness check.
package adapter
