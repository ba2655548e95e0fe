// Package push deploys a commit to a running device.
//
// The OSTree repository of the storage area is served back to the device through the SSH
// connection. The device adds it as a remote, pulls the commit and stages a deployment of
// it with ostree admin. Once the deployment shows as staged, the bootloader environment is
// prepared so that the next boot tries it and rolls back on failure.
package push
