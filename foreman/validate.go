package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/ornolab/foreman/workfile"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate WORKFILE",
	Short: "Check a workfile without running it",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		wf, err := workfile.Read(args[0], workfile.ReadOptions{Params: runParams})
		if err != nil {
			var unmarshalError workfile.UnmarshalError
			if errors.As(err, &unmarshalError) {
				cmd.PrintErrln(unmarshalError.Source)
			}
			return err
		}

		cmd.Println(color.HiGreenString("%s: %d tasks, ok", wf.Name, len(wf.Tasks)))
		return nil
	},
}

func init() {
	validateCmd.Flags().StringToStringVar(&runParams, "param", nil, "workfile parameters, as key=value")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",

	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println(fmt.Sprintf("foreman %s (%s)", version, commit))
	},
}
