// Command peleonctl manages keys and submits signed calls to a peleond gateway.
package main

import (
	"fmt"
	"io"
	"os"
)

const (
	defaultConfig  = "./peleond.toml"
	defaultGateway = "http://127.0.0.1:8080"
	defaultPassEnv = "PELEON_KEYSTORE_PASS"
)

type command struct {
	name    string
	summary string
	run     func(args []string, stdout io.Writer) error
}

var commands = []command{
	{"keygen", "generate a secp256k1 key into an encrypted keystore", runKeygen},
	{"credential", "print the credential of a keystore key", runCredential},
	{"init", "initialize the contract as its owner", runInit},
	{"call", "sign and submit a contract call", runCall},
	{"token", "mint an operator bearer token", runToken},
	{"intents", "list outbox intents (operator)", runIntents},
	{"report", "write a reconciliation report from the journal", runReport},
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}
	for _, cmd := range commands {
		if cmd.name == os.Args[1] {
			if err := cmd.run(os.Args[2:], os.Stdout); err != nil {
				fmt.Fprintf(os.Stderr, "peleonctl %s: %v\n", cmd.name, err)
				os.Exit(1)
			}
			return
		}
	}
	usage(os.Stderr)
	os.Exit(2)
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: peleonctl <command> [flags]")
	fmt.Fprintln(w)
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-11s %s\n", cmd.name, cmd.summary)
	}
}
