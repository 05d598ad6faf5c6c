/*
flag Package set up cli flags shared across services

Usage:

	Flags listed in this package are shared across boundaries and service-agnostic
	For service dependent flags please define in their respective package
*/

package flag

import (
	"flag"
)

const (
	APIServer        = "api_server"
	DigestDispatcher = "digest_dispatcher"
)

var (
	IsDevelopment bool
	ServiceName   string
)

// Only registration happens at init time. Parsing is left to each main so
// that test binaries importing this package keep their own -test.* flags.
func init() {
	flag.BoolVar(&IsDevelopment, "dev", true, "set to true if the current run is for development. default value is true")
	flag.StringVar(&ServiceName, "service", APIServer, "'api_server' or 'digest_dispatcher'")
}
