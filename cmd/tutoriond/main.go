package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/tutorion/internal/cli"
	"github.com/cloo-solutions/tutorion/internal/cli/admin"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tutoriond",
		Short: "Tutorion course context daemon and CLI",
		Long:  "Tutorion daemon for serving the retrieval API and building or querying course corpora",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.ProcessCmd())
	rootCmd.AddCommand(admin.QueryCmd())
	rootCmd.AddCommand(admin.DeleteCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
