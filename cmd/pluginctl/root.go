package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/keithlinneman/linnemanlabs-plugins/internal/log"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/plugin"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/registry"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/version"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/xerrors"
)

const dataDirEnv = "PLUGINS_DATA_DIR"

type globalFlags struct {
	dataDir       string
	logLevel      string
	extendedTypes bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "pluginctl",
		Short: "Manage plugin packages in a local data directory",
		Long: `pluginctl validates plugin packages and manages the plugins installed
in a data directory. The server reads the same directory, so plugins
added here are served on its next request.

The data directory defaults to $` + dataDirEnv + ` when --data-dir is not given.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&g.dataDir, "data-dir", "data", "directory holding config.json and the plugins/ archives")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "log level (debug|info|warn|error)")
	root.PersistentFlags().BoolVar(&g.extendedTypes, "extended-types", false, "accept gif/webp/woff2/css/json/txt assets in addition to png/jpeg")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if !cmd.Flags().Changed("data-dir") {
			if v, ok := os.LookupEnv(dataDirEnv); ok && v != "" {
				g.dataDir = v
			}
		}
		return nil
	}

	root.AddCommand(
		newValidateCmd(g),
		newAddCmd(g),
		newRemoveCmd(g),
		newListCmd(g),
		newVersionCmd(),
	)
	return root
}

func (g *globalFlags) logger(cmd *cobra.Command) (log.Logger, error) {
	lvl, err := log.ParseLevel(g.logLevel)
	if err != nil {
		return nil, err
	}
	vi := version.Get()
	return log.New(log.Options{
		App:     "pluginctl",
		Version: vi.Version,
		Commit:  vi.Commit,
		Level:   lvl,
		Writer:  cmd.ErrOrStderr(),
	})
}

func (g *globalFlags) validator() *plugin.Validator {
	if g.extendedTypes {
		return plugin.NewValidator(plugin.WithTypes(plugin.ExtendedTypes()))
	}
	return plugin.NewValidator()
}

func (g *globalFlags) registry(cmd *cobra.Command) (*registry.Registry, error) {
	L, err := g.logger(cmd)
	if err != nil {
		return nil, err
	}
	reg, err := registry.New(registry.Options{
		DocumentPath: filepath.Join(g.dataDir, "config.json"),
		Store:        registry.NewDiskStore(filepath.Join(g.dataDir, "plugins")),
		Validator:    g.validator(),
		Logger:       L,
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "open registry")
	}
	return reg, nil
}

func readPackage(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "reading %q", path)
	}
	return data, nil
}
