// Package main is the entry point for the manifesto authorization server.
package main

import (
	"os"

	"github.com/Abraxas-365/manifesto/cmd/manifesto/app"
	"github.com/Abraxas-365/manifesto/pkg/logx"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		logx.Errorf("%v", err)
		os.Exit(1)
	}
}
