//go:build !test

package main

import (
	"log"

	"github.com/bobuhiro11/arm64hv/cmd/hvctl"
)

func main() {
	if err := hvctl.Parse(); err != nil {
		log.Fatal(err)
	}
}
