package main

import (
	"context"

	"github.com/crfeliz/issue-join/cmd"
)

func main() {
	cmd.Execute(context.Background())
}
