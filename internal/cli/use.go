package cli

import (
	"github.com/spf13/cobra"
)

var useClear bool

func init() {
	rootCmd.AddCommand(useCmd)
	useCmd.Flags().BoolVar(&useClear, "clear", false, "forget the saved user and open item")
}

var useCmd = &cobra.Command{
	Use:   "use [user]",
	Short: "Set or show the acting user",
	Long: `Save the user that later commands act as. Switching users also forgets
the open inbox item, which belonged to the previous user's inbox.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store := contextStore()

		if useClear {
			if err := store.Clear(); err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "Context cleared (%s)\n", store.Path())
			return nil
		}

		saved, err := store.Load()
		if err != nil {
			return err
		}
		if len(args) == 0 {
			if IsJSONOutput() || IsJSONLOutput() {
				return WriteOutput(cmd.OutOrStdout(), saved)
			}
			printf(cmd.OutOrStdout(), "%s\n", saved.String())
			return nil
		}

		s, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer s.Close()
		user, err := s.store.GetUser(ctx, args[0])
		if err != nil {
			return err
		}

		saved.SetUser(user.ID)
		if err := store.Save(saved); err != nil {
			return err
		}
		printf(cmd.OutOrStdout(), "Acting as %s\n", user.Contact().Label())
		PrintNextSteps(HintContext{Action: "use", UserID: user.Username})
		return nil
	},
}
