package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/your-org/facecheck/internal/credential"
	"github.com/your-org/facecheck/internal/gallery"
	"github.com/your-org/facecheck/internal/models"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a session credential for an identity",
	Long: `Issues the session credential that the external login flow would hand out.
Unknown identities are created when --name is given.`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().String("identity", "", "identity id (required)")
	tokenCmd.Flags().String("role", string(models.RoleStudent), "role for a newly created identity: student, admin or super_admin")
	tokenCmd.Flags().String("name", "", "display name; creates the identity if it does not exist")
	tokenCmd.Flags().String("email", "", "email for a newly created identity")
	_ = tokenCmd.MarkFlagRequired("identity")
	rootCmd.AddCommand(tokenCmd)
}

func parseRole(s string) (models.Role, error) {
	switch r := models.Role(s); r {
	case models.RoleStudent, models.RoleAdmin, models.RoleSuperAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

func runToken(cmd *cobra.Command, args []string) error {
	id := mustGetString(cmd, "identity")
	name := mustGetString(cmd, "name")
	role, err := parseRole(mustGetString(cmd, "role"))
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	identity, err := db.GetIdentity(ctx, id)
	switch {
	case errors.Is(err, gallery.ErrIdentityNotFound) && name != "":
		identity = &models.Identity{
			ID:          id,
			DisplayName: name,
			Email:       mustGetString(cmd, "email"),
			Role:        role,
			CreatedAt:   time.Now().UTC(),
		}
		if err := db.UpsertIdentity(ctx, identity); err != nil {
			return err
		}
		fmt.Printf("Created identity %s (%s)\n", id, role)
	case err != nil:
		return err
	}

	issuer := credential.NewIssuer(credential.Config{
		Secret:     cfg.Credentials.Secret,
		Issuer:     cfg.Credentials.Issuer,
		SessionTTL: cfg.Credentials.SessionTTL,
	})
	token, claims, err := issuer.IssueSession(*identity)
	if err != nil {
		return err
	}

	fmt.Printf("Identity: %s (%s)\n", claims.IdentityID, claims.Role)
	fmt.Printf("Expires:  %s\n", claims.ExpiresAt.Format(time.RFC3339))
	fmt.Println(token)
	return nil
}
