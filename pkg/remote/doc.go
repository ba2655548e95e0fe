// Package remote runs commands on a device over SSH.
//
// Commands are plain shell lines. Data flows through the command standard streams,
// so that a tar stream or a file upload needs nothing but a shell on the device.
package remote
