package main

import (
	"log"

	"github.com/cordum/jobcore/core/controlplane/jobd"
	"github.com/cordum/jobcore/core/infra/buildinfo"
	"github.com/cordum/jobcore/core/infra/config"
)

func main() {
	buildinfo.Log("jobcore")
	cfg := config.Load()
	if err := jobd.Run(cfg); err != nil {
		log.Fatalf("jobcore error: %v", err)
	}
}
