package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var composeFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "learnscaffold: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "learnscaffold",
		Short:        "LearnScaffold development CLI",
		Long:         "Orchestrates the local stack (Postgres, Redis, MinIO, api, worker) and common development workflows.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&composeFile, "compose-file", "f", "docker-compose.yml", "Compose file to use for stack commands")
	cmd.AddCommand(newUpCmd(), newDownCmd(), newTestCmd(), newRunCmd())
	return cmd
}

func newUpCmd() *cobra.Command {
	var detach bool
	cmd := &cobra.Command{
		Use:   "up [service...]",
		Short: "Start the docker-compose stack",
		RunE: func(cmd *cobra.Command, args []string) error {
			composeArgs := []string{"compose", "-f", composeFile, "up", "--build"}
			if detach {
				composeArgs = append(composeArgs, "-d")
			}
			composeArgs = append(composeArgs, args...)
			return runCommand(cmd.Context(), "docker", composeArgs...)
		},
	}
	cmd.Flags().BoolVarP(&detach, "detached", "d", true, "Run docker compose in detached mode")
	return cmd
}

func newDownCmd() *cobra.Command {
	var removeVolumes bool
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stop the docker-compose stack",
		RunE: func(cmd *cobra.Command, args []string) error {
			composeArgs := []string{"compose", "-f", composeFile, "down"}
			if removeVolumes {
				composeArgs = append(composeArgs, "-v")
			}
			return runCommand(cmd.Context(), "docker", composeArgs...)
		},
	}
	cmd.Flags().BoolVarP(&removeVolumes, "volumes", "v", false, "Remove stack volumes")
	return cmd
}

func newTestCmd() *cobra.Command {
	var race bool
	cmd := &cobra.Command{
		Use:   "test [packages]",
		Short: "Run Go tests (defaults to ./...)",
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgs := args
			if len(pkgs) == 0 {
				pkgs = []string{"./..."}
			}
			goArgs := []string{"test"}
			if race {
				goArgs = append(goArgs, "-race")
			}
			goArgs = append(goArgs, pkgs...)
			return runCommand(cmd.Context(), "go", goArgs...)
		},
	}
	cmd.Flags().BoolVar(&race, "race", false, "Enable Go race detector")
	return cmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run individual Go binaries directly",
	}
	for name, path := range map[string]string{
		"api":    "./cmd/api",
		"worker": "./cmd/worker",
	} {
		name, path := name, path
		cmd.AddCommand(&cobra.Command{
			Use:   name,
			Short: fmt.Sprintf("go run %s", path),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCommand(cmd.Context(), "go", append([]string{"run", path}, args...)...)
			},
		})
	}
	return cmd
}

func runCommand(ctx context.Context, name string, args ...string) error {
	execCmd := exec.CommandContext(ctx, name, args...)
	execCmd.Stdout = os.Stdout
	execCmd.Stderr = os.Stderr
	execCmd.Stdin = os.Stdin
	return execCmd.Run()
}
