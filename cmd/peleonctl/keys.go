package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"peleon/cmd/internal/passphrase"
	"peleon/config"
	"peleon/crypto"
)

func runKeygen(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	out := fs.String("out", "", "Output path for the keystore (defaults to the configured owner keystore)")
	configPath := fs.String("config", defaultConfig, "Path to the peleond config file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := *out
	if path == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		path = cfg.OwnerKeystorePath
	}
	pass, err := passphrase.NewSource(*passEnv, "new keystore").WithConfirmation().Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(path, key, pass, *force); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "keystore:   %s\ncredential: %s\n", path, key.PubKey().Credential())
	return nil
}

func runCredential(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("credential", flag.ContinueOnError)
	keystorePath := fs.String("keystore", "", "Keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := loadKey(*keystorePath, *passEnv)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, key.PubKey().Credential())
	return nil
}

func loadKey(path, passEnv string) (*crypto.PrivateKey, error) {
	if path == "" {
		return nil, errors.New("-keystore is required")
	}
	pass, err := passphrase.NewSource(passEnv, "keystore").Get()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(path, pass)
}
