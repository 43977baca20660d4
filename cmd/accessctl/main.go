// accessctl — CLI сессии витрины и управления ролями Access Module.
package main

import (
	"errors"
	"os"

	"github.com/bigkaa/gostorefront/access-module/internal/cli"
)

var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		if errors.Is(err, cli.ErrPermissionDenied) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}
