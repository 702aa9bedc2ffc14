package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/alexflint/go-arg"
)

const statusContext = "ci/commitment-ledger"

func main() {
	var args struct {
		Status      string `arg:"-s,--status,required" help:"commit status, one of pending, success, failure or error"`
		Description string `arg:"-d,--description" help:"short status description"`
		RunUrl      string `arg:"env:RUN_URL" help:"GitHub workflow run URL"`
		StatusUrl   string `arg:"env:STATUS_URL,required" help:"GitHub commit status URL"`
		GitHubToken string `arg:"env:GH_TOKEN" help:"GitHub auth token"`
	}
	arg.MustParse(&args)
	if err := updateCommitStatus(args.Status, args.Description, args.StatusUrl, args.RunUrl, args.GitHubToken); err != nil {
		log.Fatalf("status: error publishing status [%v]", err)
	}
}

func updateCommitStatus(status, description, statusUrl, targetUrl, token string) error {
	reqBody, _ := json.Marshal(map[string]string{
		"state":       status,
		"target_url":  targetUrl,
		"description": description,
		"context":     statusContext,
	})
	req, err := http.NewRequest(http.MethodPost, statusUrl, bytes.NewBuffer(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if len(token) > 0 {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	respBody := string(body)
	if !strings.Contains(respBody, status) {
		return fmt.Errorf("expected status %s missing in %s", status, respBody)
	}
	return nil
}
