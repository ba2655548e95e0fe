// Copyright © 2018 One Concern

package main

import (
	"github.com/oneconcern/tcbuilder/cmd/tcbuilder/cmd"
)

func main() {
	cmd.Execute()
}
