// bitmesh is a thin host shell around the messaging core: it loads the
// configuration, starts the core over a loopback mock radio driver, and
// exposes the few operator verbs (bookmark, relays).
package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Error("Command failed")
		os.Exit(1)
	}
}
