package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bitrise-io/go-blobupload/blob"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/spf13/cobra"
)

type app struct {
	configPath string
	debug      bool

	logger log.Logger
	config blob.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "blobupload",
		Short:         "Upload files to the data platform file storage",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.logger = log.NewLogger()
			a.logger.EnableDebugLog(a.debug)

			config, err := loadConfig(a.configPath, env.NewRepository())
			if err != nil {
				a.logger.Errorf("%s", err)
				return err
			}
			a.config = config
			a.logger.Debugf("API: %s, app: %s, key: %s", config.APIBaseURL, config.AppID, config.AppKey)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "TOML config file, environment variables override its values")
	rootCmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logs")

	rootCmd.AddCommand(
		a.newUploadCmd(),
		a.newInfoCmd(),
		a.newDeleteCmd(),
		a.newDownloadCmd(),
	)

	return rootCmd
}

func (a *app) newUploadCmd() *cobra.Command {
	var metaData map[string]string
	var printJSON bool

	cmd := &cobra.Command{
		Use:   "upload PATH_OR_PATTERN...",
		Short: "Upload files, glob patterns (including **) are expanded",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta := make(map[string]interface{}, len(metaData))
			for k, v := range metaData {
				meta[k] = v
			}

			uploader := blob.NewUploader(a.config, a.logger)
			batch := blob.NewBatchUploader(uploader, a.config.Concurrency, a.logger)
			sink := newBarSink(os.Stderr, "Uploading")

			results, err := batch.UploadPaths(cmd.Context(), args, meta, sink)
			if err != nil {
				a.logger.Errorf("%s", err)
				return err
			}

			failed := 0
			for _, result := range results {
				if result.Err != nil {
					failed++
					a.logger.Errorf("%s: %s", result.Path, result.Err)
					continue
				}
				a.logger.Donef("%s -> %s (%s)", result.Path, result.State.RemoteURL, result.State.ObjectID)
			}

			if printJSON {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d upload(s) failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringToStringVarP(&metaData, "meta", "m", nil, "Custom metadata stored with every file (key=value)")
	cmd.Flags().BoolVar(&printJSON, "json", false, "Print the upload states as JSON")
	return cmd
}

func (a *app) newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info OBJECT_ID",
		Short: "Show an uploaded file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := blob.NewFiles(a.config, a.logger).Get(cmd.Context(), args[0])
			if err != nil {
				a.logger.Errorf("%s", err)
				return err
			}

			a.logger.Printf("Name:      %s", state.Name)
			a.logger.Printf("Object ID: %s", state.ObjectID)
			a.logger.Printf("MIME type: %s", state.MimeType)
			a.logger.Printf("Size:      %s", units.HumanSizeWithPrecision(float64(state.BytesCompleted), 3))
			a.logger.Printf("Key:       %s", state.CloudKey)
			a.logger.Printf("URL:       %s", state.RemoteURL)
			return nil
		},
	}
}

func (a *app) newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete OBJECT_ID",
		Short: "Delete an uploaded file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files := blob.NewFiles(a.config, a.logger)
			state, err := files.Get(cmd.Context(), args[0])
			if err != nil {
				a.logger.Errorf("%s", err)
				return err
			}

			if err := files.Delete(cmd.Context(), state); err != nil {
				a.logger.Errorf("%s", err)
				return err
			}

			a.logger.Donef("Deleted %s (%s)", state.Name, state.ObjectID)
			return nil
		},
	}
}

func (a *app) newDownloadCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "download OBJECT_ID",
		Short: "Download an uploaded file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files := blob.NewFiles(a.config, a.logger)
			state, err := files.Get(cmd.Context(), args[0])
			if err != nil {
				a.logger.Errorf("%s", err)
				return err
			}

			dest := output
			if dest == "" {
				dest = filepath.Base(state.Name)
			}
			if err := files.Download(cmd.Context(), state, dest); err != nil {
				a.logger.Errorf("%s", err)
				return err
			}

			a.logger.Donef("Downloaded %s (%s) to %s", state.Name, units.HumanSizeWithPrecision(float64(state.BytesCompleted), 3), dest)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination path (default: the file name in the current directory)")
	return cmd
}

func writeJSON(cmd *cobra.Command, results []blob.BatchResult) error {
	type output struct {
		Path  string     `json:"path"`
		State blob.State `json:"state"`
		Error string     `json:"error,omitempty"`
	}

	outputs := make([]output, 0, len(results))
	for _, result := range results {
		o := output{Path: result.Path, State: result.State}
		if result.Err != nil {
			o.Error = result.Err.Error()
		}
		outputs = append(outputs, o)
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(outputs)
}
