package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "lodestar",
	Short: "Critical-path project scheduler",
	Long:  "Lodestar schedules task plans with the critical path method: dependencies, constraints, working calendars, and an edit journal with undo.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.RunE = runRootDefault

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default .lodestar.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringP("file", "f", "", "project file (default project.toml)")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("project_file", rootCmd.PersistentFlags().Lookup("file"))
}

func initConfig() {
	if cfgFile, _ := rootCmd.Flags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".lodestar")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
	}

	viper.SetEnvPrefix("LODESTAR")
	viper.AutomaticEnv()

	// It's fine if no config file is found; we use defaults.
	_ = viper.ReadInConfig()
}

// runRootDefault shows the schedule when a project file exists in the cwd.
// Otherwise it falls back to help.
func runRootDefault(cmd *cobra.Command, args []string) error {
	file, _ := rootCmd.Flags().GetString("file")
	if file == "" {
		file = "project.toml"
	}
	if _, err := os.Stat(file); os.IsNotExist(err) {
		return cmd.Help()
	}
	// Delegate to the schedule subcommand.
	return runSchedule(scheduleCmd, nil)
}
