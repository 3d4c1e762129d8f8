package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the service catalog and a few sample bookings for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(".")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		db, err := gorm.Open(gormpostgres.Open(cfg.Database.Source), &gorm.Config{})
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}

		if clearData {
			for _, table := range []string{"audit_log_entries", "ledger_entries", "line_items", "bookings", "services"} {
				if err := db.Exec("DELETE FROM " + table).Error; err != nil {
					log.Fatalf("failed to clear %s: %v", table, err)
				}
			}
			fmt.Println("Cleared existing data")
		}

		services := []struct {
			Name  string
			Price string
		}{
			{"Standard Cleaning", "90.00"},
			{"Deep Cleaning", "150.00"},
			{"Window Washing", "40.00"},
			{"Carpet Treatment", "65.00"},
			{"Move-out Package", "220.00"},
		}

		for _, s := range services {
			var exists int
			row := db.Raw("SELECT 1 FROM services WHERE name = ?", s.Name).Row()
			if err := row.Scan(&exists); err == nil {
				continue
			}

			if err := db.Exec("INSERT INTO services (name, price, active, created_at, updated_at) VALUES (?, ?, true, now(), now())", s.Name, s.Price).Error; err != nil {
				log.Fatalf("failed to insert service %s: %v", s.Name, err)
			}
			fmt.Println("Seeded service:", s.Name)
		}

		var bookingCount int64
		if err := db.Raw("SELECT COUNT(*) FROM bookings").Row().Scan(&bookingCount); err != nil {
			log.Fatalf("failed to count bookings: %v", err)
		}
		if bookingCount > 0 {
			fmt.Println("Bookings already present, skipping booking seed")
			return
		}

		if err := db.Exec("INSERT INTO bookings (status, payment_status, payment_version, tip_amount, created_at, updated_at) VALUES ('pending', 'pending', 0, 0, now(), now())").Error; err != nil {
			log.Fatalf("failed to insert sample booking: %v", err)
		}

		var bookingID int64
		if err := db.Raw("SELECT id FROM bookings ORDER BY id DESC LIMIT 1").Row().Scan(&bookingID); err != nil {
			log.Fatalf("failed to lookup sample booking id: %v", err)
		}

		lines := []struct {
			ServiceName string
			Quantity    int
		}{
			{"Standard Cleaning", 1},
			{"Window Washing", 2},
		}

		for _, line := range lines {
			var serviceID int64
			var price string
			row := db.Raw("SELECT id, price FROM services WHERE name = ?", line.ServiceName).Row()
			if err := row.Scan(&serviceID, &price); err != nil {
				log.Fatalf("service not found for line item %s: %v", line.ServiceName, err)
			}

			if err := db.Exec("INSERT INTO line_items (booking_id, service_id, display_name, unit_price, quantity, created_at, updated_at) VALUES (?, ?, ?, ?, ?, now(), now())",
				bookingID, serviceID, line.ServiceName, price, line.Quantity).Error; err != nil {
				log.Fatalf("failed to insert line item %s: %v", line.ServiceName, err)
			}
		}

		fmt.Println("Seeded sample booking:", bookingID)
	},
}
