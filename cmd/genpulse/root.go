package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/isWangjianhua/GenPulse/pkg/client"
)

// newRootCmd builds the command tree. Settings resolve in order: flag,
// GENPULSE_* environment variable, config file, default.
func newRootCmd() *cobra.Command {
	v := viper.New()
	var configFile string

	root := &cobra.Command{
		Use:   "genpulse",
		Short: "Submit and track media generation tasks",
		Long: `genpulse talks to a GenPulse gateway: submit image and video generation
tasks to any configured provider, follow their progress and upload input
files.

Examples:
  genpulse submit --provider kling --type text-to-video --param prompt="a red fox"
  genpulse status 6f1c...
  genpulse watch 6f1c...
  genpulse list -n 20`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(v, configFile)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default $HOME/.genpulse.yaml)")
	flags.String("endpoint", client.DefaultEndpoint, "gateway base URL")
	flags.String("token", "", "API bearer token")
	flags.Bool("json", false, "print raw JSON")
	_ = v.BindPFlag("endpoint", flags.Lookup("endpoint"))
	_ = v.BindPFlag("token", flags.Lookup("token"))
	_ = v.BindPFlag("json", flags.Lookup("json"))
	v.SetEnvPrefix("GENPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	app := &app{v: v}
	root.AddCommand(
		newSubmitCmd(app),
		newStatusCmd(app),
		newListCmd(app),
		newWatchCmd(app),
		newUploadCmd(app),
		newMCPCmd(app),
	)
	return root
}

func loadConfig(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(".genpulse")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && path == "" {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// app carries resolved settings into subcommands.
type app struct {
	v *viper.Viper
}

func (a *app) endpoint() string { return a.v.GetString("endpoint") }

func (a *app) client() *client.Client {
	var opts []client.Option
	if token := a.v.GetString("token"); token != "" {
		opts = append(opts, client.WithToken(token))
	}
	return client.NewClient(a.endpoint(), opts...)
}

func (a *app) jsonOutput() bool { return a.v.GetBool("json") }

// explain turns gateway error codes into something readable.
func (a *app) explain(err error) error {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w (is genpulse-d running at %s?)", err, a.endpoint())
	}
	switch apiErr.Code {
	case "missing_token", "invalid_token", "invalid_token_format":
		return fmt.Errorf("%s: set --token or GENPULSE_TOKEN", apiErr.Code)
	}
	return err
}

func printTask(w io.Writer, t client.Task) {
	fmt.Fprintf(w, "Task:     %s\n", t.TaskID)
	if t.Provider != "" {
		fmt.Fprintf(w, "Provider: %s (%s)\n", t.Provider, t.TaskType)
	}
	fmt.Fprintf(w, "Status:   %s\n", t.Status)
	fmt.Fprintf(w, "Progress: %d%%\n", t.Progress)
	if t.ProviderTaskID != "" {
		fmt.Fprintf(w, "Vendor:   %s\n", t.ProviderTaskID)
	}
	if t.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", t.Error)
	}
	if art, err := t.Artifact(); err == nil && art != nil {
		urls := art.URLs
		if len(urls) == 0 && art.URL != "" {
			urls = []string{art.URL}
		}
		for _, u := range urls {
			fmt.Fprintf(w, "Result:   %s\n", u)
		}
	}
}
