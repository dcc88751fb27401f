package config

import (
	"flag"
	"os"

	"github.com/flowguard/flowguard/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   address and port to bind the REST endpoint
//	-d string   PostgreSQL DSN
//	-k string   JWT signing secret
//	-s string   base endpoint of the S3-compatible archive backend
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-k", "-s"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.EndpointAddrHTTP, "a", cfg.EndpointAddrHTTP, "address and port to bind the REST endpoint")
	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "PostgreSQL DSN")
	fs.StringVar(&cfg.SecretKey, "k", cfg.SecretKey, "JWT signing secret")
	fs.StringVar(&cfg.S3BaseEndpoint, "s", cfg.S3BaseEndpoint, "S3 base endpoint for schema archives")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
