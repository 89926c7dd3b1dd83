package cmd

import (
	"context"
	"log"

	"github.com/spf13/cobra"
	"github.com/tieubaoca/docqa-be/types"
)

var createUserReq types.CreateUserRequest

// createUserCmd bootstraps accounts from the command line. The http
// endpoint for user creation requires an admin token, so the first admin
// has to come from here.
var createUserCmd = &cobra.Command{
	Use:   "create-user",
	Short: "Create a user account",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			log.Fatalf("create-user: %v", err)
		}
		defer a.close(ctx)

		user, err := a.userService.CreateUser(ctx, createUserReq)
		if err != nil {
			log.Fatalf("create-user: %v", err)
		}
		log.Printf("created %s user %s with id %s", user.Role, user.Username, user.ID)
	},
}

func init() {
	createUserCmd.Flags().StringVar(&createUserReq.Username, "username", "", "login name (required)")
	createUserCmd.Flags().StringVar(&createUserReq.Password, "password", "", "password (required)")
	createUserCmd.Flags().StringVar(&createUserReq.FullName, "full-name", "", "display name")
	createUserCmd.Flags().StringVar(&createUserReq.Role, "role", types.USER_ROLE_USER, "user or admin")
	createUserCmd.MarkFlagRequired("username")
	createUserCmd.MarkFlagRequired("password")
	rootCmd.AddCommand(createUserCmd)
}
