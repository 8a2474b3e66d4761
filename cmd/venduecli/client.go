package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/optionvault/vendue"
	"github.com/urfave/cli"
)

// requestTimeout bounds every request of a command.
const requestTimeout = 30 * time.Second

// restClient talks to one of the REST APIs of vendued.
type restClient struct {
	baseURL string
	caller  string
	http    *http.Client
}

// apiError is the error body returned by vendued.
type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func getClient(ctx *cli.Context) (*restClient, error) {
	return newRESTClient(ctx, ctx.GlobalString("restserver"))
}

func getAdminClient(ctx *cli.Context) (*restClient, error) {
	return newRESTClient(ctx, ctx.GlobalString("adminserver"))
}

func newRESTClient(ctx *cli.Context, baseURL string) (*restClient, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	// vendued autogenerates a self-signed certificate, which must be
	// trusted explicitly.
	if certPath := ctx.GlobalString("tlscertpath"); certPath != "" {
		pem, err := os.ReadFile(certPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read TLS cert: %v",
				err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificate found in %s",
				certPath)
		}
		tlsConfig.RootCAs = pool
	}

	return &restClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		caller:  ctx.GlobalString("caller"),
		http: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: tlsConfig,
			},
		},
	}, nil
}

// do sends a request with an optional JSON body and returns the raw JSON
// response.
func (c *restClient) do(method, path string, body interface{}) ([]byte,
	error) {

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(
		ctx, method, c.baseURL+path, reqBody,
	)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.caller != "" {
		req.Header.Set(vendue.HeaderCaller, c.caller)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unable to reach vendued: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiError
		if err := json.Unmarshal(respBody, &apiErr); err != nil ||
			apiErr.Error == "" {

			return nil, fmt.Errorf("request failed: %s",
				resp.Status)
		}

		return nil, fmt.Errorf("%s (%s)", apiErr.Error, apiErr.Code)
	}

	return respBody, nil
}

// printJSON prints a raw JSON response indented.
func printJSON(resp []byte) {
	if len(resp) == 0 {
		return
	}

	var out bytes.Buffer
	if err := json.Indent(&out, resp, "", "\t"); err != nil {
		fmt.Println(string(resp))
		return
	}

	fmt.Println(out.String())
}

type simpleCmd func(ctx *cli.Context, client *restClient) ([]byte, error)

// wrapSimpleCmd runs a command against the public API and prints its result.
func wrapSimpleCmd(exec simpleCmd) func(ctx *cli.Context) error {
	return func(ctx *cli.Context) error {
		client, err := getClient(ctx)
		if err != nil {
			return err
		}

		resp, err := exec(ctx, client)
		if err != nil {
			return err
		}

		printJSON(resp)
		return nil
	}
}

// wrapAdminCmd runs a command against the admin API and prints its result.
func wrapAdminCmd(exec simpleCmd) func(ctx *cli.Context) error {
	return func(ctx *cli.Context) error {
		client, err := getAdminClient(ctx)
		if err != nil {
			return err
		}

		resp, err := exec(ctx, client)
		if err != nil {
			return err
		}

		printJSON(resp)
		return nil
	}
}

// epochArg parses the epoch from the --epoch flag or the first positional
// argument.
func epochArg(ctx *cli.Context) (uint64, error) {
	if ctx.IsSet("epoch") {
		return ctx.Uint64("epoch"), nil
	}

	if ctx.NArg() == 0 {
		return 0, fmt.Errorf("epoch argument missing")
	}

	var epoch uint64
	if _, err := fmt.Sscanf(ctx.Args().First(), "%d", &epoch); err != nil {
		return 0, fmt.Errorf("invalid epoch: %v", err)
	}

	return epoch, nil
}

var epochFlag = cli.Uint64Flag{
	Name:  "epoch",
	Usage: "the epoch of the auction",
}
