package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"peleon/config"
	"peleon/crypto"
	"peleon/gateway/auth"
	"peleon/gateway/routes"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

type signingFlags struct {
	gateway  *string
	keystore *string
	account  *string
	passEnv  *string
}

func addSigningFlags(fs *flag.FlagSet) signingFlags {
	return signingFlags{
		gateway:  fs.String("gateway", defaultGateway, "Gateway base URL"),
		keystore: fs.String("keystore", "", "Keystore holding the signing key"),
		account:  fs.String("account", "", "Ledger account the call is made as"),
		passEnv:  fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase"),
	}
}

func runCall(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	signing := addSigningFlags(fs)
	data := fs.String("data", "", "Raw JSON request body")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("usage: peleonctl call [flags] <method> [key=value ...]")
	}
	method := fs.Arg(0)
	body := []byte(*data)
	if len(body) == 0 {
		fields, err := parseFields(fs.Args()[1:])
		if err != nil {
			return err
		}
		if body, err = json.Marshal(fields); err != nil {
			return err
		}
	}
	key, err := loadKey(*signing.keystore, *signing.passEnv)
	if err != nil {
		return err
	}
	return submit(stdout, *signing.gateway, key, *signing.account, method, body)
}

func runInit(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	signing := addSigningFlags(fs)
	configPath := fs.String("config", defaultConfig, "Path to the peleond config file")
	managerID := fs.String("manager", "", "Manager account id")
	managerCred := fs.String("manager-credential", "", "Manager credential (pk1... or hex)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if _, err := crypto.ParseCredential(*managerCred); err != nil {
		return fmt.Errorf("-manager-credential: %w", err)
	}
	body, err := json.Marshal(map[string]string{
		"variant":           cfg.Contract.Variant,
		"contractId":        cfg.Contract.ID,
		"hashAlgorithm":     cfg.Contract.HashAlgorithm,
		"managerId":         *managerID,
		"managerCredential": *managerCred,
		"gatewayContractId": cfg.Contract.GatewayContractID,
	})
	if err != nil {
		return err
	}
	keystore := *signing.keystore
	if keystore == "" {
		keystore = cfg.OwnerKeystorePath
	}
	key, err := loadKey(keystore, *signing.passEnv)
	if err != nil {
		return err
	}
	return submit(stdout, *signing.gateway, key, *signing.account, routes.MethodInitialize, body)
}

func submit(stdout io.Writer, gateway string, key *crypto.PrivateKey, account, method string, body []byte) error {
	if account == "" {
		return errors.New("-account is required")
	}
	url := strings.TrimRight(gateway, "/") + "/v1/calls/" + method
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := auth.SignRequest(req, key, account, uuid.NewString(), body, time.Now()); err != nil {
		return err
	}
	return do(stdout, req)
}

func do(stdout io.Writer, req *http.Request) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, payload, "", "  ") == nil {
		payload = pretty.Bytes()
	}
	fmt.Fprintln(stdout, strings.TrimSpace(string(payload)))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned %s", resp.Status)
	}
	return nil
}

// parseFields turns key=value arguments into a JSON object.
func parseFields(args []string) (map[string]string, error) {
	fields := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("argument %q is not key=value", arg)
		}
		fields[key] = value
	}
	return fields, nil
}
