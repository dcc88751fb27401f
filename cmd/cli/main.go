package main

import (
	"context"
	"log"
	"os"

	"github.com/flowguard/flowguard/internal/buildinfo"
	"github.com/flowguard/flowguard/internal/client/cli"
	"github.com/flowguard/flowguard/internal/client/config"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := cli.NewApp(cfg)

	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	app.Run(ctx)

}
