package main

import (
	"github.com/downfa11-org/go-itest/util"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		util.Fatal("❌ %v", err)
	}
}
