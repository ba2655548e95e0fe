// Package ostree drives OSTree repositories and system roots through the ostree command.
//
// Commits, their objects and their references stay in OSTree formats: this package only
// builds command lines and reads their output. System roots are packed and unpacked with
// GNU tar, which keeps the extended attributes OSTree relies on.
package ostree
