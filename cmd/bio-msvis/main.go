package main

import (
	"github.com/grailbio/base/grail"
	"github.com/grailbio/msvis/cmd/bio-msvis/cmd"
)

func main() {
	shutdown := grail.Init()
	defer shutdown()
	cmd.Run()
}
