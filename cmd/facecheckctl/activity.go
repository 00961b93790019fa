package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/your-org/facecheck/internal/models"
)

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Manage activities",
}

var activityCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an activity with its check-in geofences",
	Example: `  facecheckctl activity create --name "Lecture 1" --date 2024-03-01 \
    --fence 10.7769,106.7009,50 --fence 10.7772,106.7015,30`,
	Args: cobra.NoArgs,
	RunE: runActivityCreate,
}

func init() {
	activityCreateCmd.Flags().String("id", "", "activity id (default: random)")
	activityCreateCmd.Flags().String("name", "", "activity name (required)")
	activityCreateCmd.Flags().String("description", "", "activity description")
	activityCreateCmd.Flags().String("date", "", "activity date, YYYY-MM-DD (default: today)")
	activityCreateCmd.Flags().String("created-by", "", "identity id of the creator")
	activityCreateCmd.Flags().StringArray("fence", nil, "geofence as lat,lon,radius_meters (repeatable)")
	_ = activityCreateCmd.MarkFlagRequired("name")
	activityCmd.AddCommand(activityCreateCmd)
	rootCmd.AddCommand(activityCmd)
}

// parseFence parses "lat,lon,radius".
func parseFence(s string) (models.Geofence, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return models.Geofence{}, fmt.Errorf("fence %q: want lat,lon,radius", s)
	}
	var vals [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return models.Geofence{}, fmt.Errorf("fence %q: %w", s, err)
		}
		vals[i] = v
	}
	f := models.Geofence{Lat: vals[0], Lon: vals[1], RadiusMeters: vals[2]}
	switch {
	case f.Lat < -90 || f.Lat > 90:
		return models.Geofence{}, fmt.Errorf("fence %q: latitude out of range", s)
	case f.Lon < -180 || f.Lon > 180:
		return models.Geofence{}, fmt.Errorf("fence %q: longitude out of range", s)
	case f.RadiusMeters <= 0:
		return models.Geofence{}, fmt.Errorf("fence %q: radius must be positive", s)
	}
	return f, nil
}

func runActivityCreate(cmd *cobra.Command, args []string) error {
	a := &models.Activity{
		ID:          mustGetString(cmd, "id"),
		Name:        mustGetString(cmd, "name"),
		Description: mustGetString(cmd, "description"),
		CreatedBy:   mustGetString(cmd, "created-by"),
		CreatedAt:   time.Now().UTC(),
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	a.Date = time.Now().UTC().Truncate(24 * time.Hour)
	if d := mustGetString(cmd, "date"); d != "" {
		date, err := time.Parse(time.DateOnly, d)
		if err != nil {
			return fmt.Errorf("invalid --date: %w", err)
		}
		a.Date = date
	}

	for _, raw := range mustGetStringArray(cmd, "fence") {
		f, err := parseFence(raw)
		if err != nil {
			return err
		}
		a.Geofences = append(a.Geofences, f)
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

	if err := db.CreateActivity(ctx, a); err != nil {
		return err
	}

	fmt.Printf("Activity: %s\n", a.ID)
	fmt.Printf("Name:     %s\n", a.Name)
	fmt.Printf("Fences:   %d\n", len(a.Geofences))
	if len(a.Geofences) == 0 {
		fmt.Println("Warning: without fences only trusted-network check-ins are possible")
	}
	return nil
}
