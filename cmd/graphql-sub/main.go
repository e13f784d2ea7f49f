package main

import (
	"os"

	"github.com/neo4j/graphql-sub030/cmd/graphql-sub/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
