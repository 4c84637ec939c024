// Package main provides the entry point for the Peloton CLI.
// It authenticates against Peloton's Auth0 tenant with a fresh OAuth PKCE
// login per invocation and prints the requested resource as JSON with
// deterministic key order.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/pedal-for-me/peloton-cli/internal/client"
	"github.com/pedal-for-me/peloton-cli/internal/config"
	"github.com/pedal-for-me/peloton-cli/internal/logging"
	"github.com/pedal-for-me/peloton-cli/internal/util"
	log "github.com/sirupsen/logrus"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
}

func usage() {
	out := flag.CommandLine.Output()
	_, _ = fmt.Fprintf(out, "Usage: %s [flags] <command>\n\n", os.Args[0])
	_, _ = fmt.Fprintln(out, "Commands:")
	_, _ = fmt.Fprintln(out, "  profile                      Fetch the authenticated user's profile")
	_, _ = fmt.Fprintln(out, "  workouts [-limit N] [-page P] Fetch a page of workout history")
	_, _ = fmt.Fprintln(out, "  workout <workout_id>         Fetch a single workout")
	_, _ = fmt.Fprintln(out, "\nFlags:")
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(out, "\nCredentials are read from %s and %s (optionally via an env file).\n",
		config.EnvUsername, config.EnvPassword)
}

// main parses the command line, loads configuration and credentials, and
// dispatches to the requested fetch operation.
func main() {
	var configPath string
	var envFile string
	var showVersion bool

	flag.StringVar(&configPath, "config", "config.yaml", "Configuration file path")
	flag.StringVar(&envFile, "env-file", "", "Env file to load credentials from")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.CommandLine.Usage = usage
	flag.Parse()

	if showVersion {
		fmt.Printf("peloton-cli Version: %s, Commit: %s, BuiltAt: %s\n", Version, Commit, BuildDate)
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		log.Exit(2)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fail(err)
	}
	if err = logging.ConfigureLogOutput(cfg); err != nil {
		fail(err)
	}

	config.LoadEnvFiles(envFile)
	creds, err := config.CredentialsFromEnv()
	if err != nil {
		fail(err)
	}

	api := client.New(cfg, creds)
	ctx := context.Background()

	var body []byte
	switch args[0] {
	case "profile":
		body, err = api.FetchProfile(ctx)
	case "workouts":
		body, err = runWorkouts(ctx, api, args[1:])
	case "workout":
		if len(args) < 2 {
			err = fmt.Errorf("workout requires a workout_id argument")
			break
		}
		body, err = api.FetchWorkout(ctx, args[1])
	default:
		usage()
		log.Exit(2)
	}
	if err != nil {
		fail(err)
	}

	rendered, err := util.RenderJSON(body)
	if err != nil {
		fail(err)
	}
	fmt.Println(rendered)
}

// runWorkouts parses the workouts subcommand flags and fetches the page.
func runWorkouts(ctx context.Context, api client.APIClient, args []string) ([]byte, error) {
	fs := flag.NewFlagSet("workouts", flag.ContinueOnError)
	limit := fs.Int("limit", 10, "Number of workouts per page")
	page := fs.Int("page", 0, "Zero-based page index")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return api.FetchWorkouts(ctx, *limit, *page)
}

// fail prints the error to stderr and exits non-zero through logrus so
// registered exit handlers still run.
func fail(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	log.Exit(1)
}
