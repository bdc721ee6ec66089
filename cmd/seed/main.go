package main

import (
	"database/sql"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Seeds the customers table with demo profiles so segments have something
// to match against in a fresh environment.

var (
	firstNames = []string{"Ava", "Noah", "Mia", "Liam", "Zoe", "Ethan", "Ivy", "Lucas", "Nina", "Omar"}
	lastNames  = []string{"Khan", "Patel", "Silva", "Novak", "Weber", "Rossi", "Tanaka", "Okafor", "Larsen", "Moreau"}
	locations  = []string{"Berlin", "Mumbai", "Austin", "Lagos", "Tokyo", "Lyon", "Oslo", "Lima"}
	tagPool    = []string{"vip", "newsletter", "beta", "churn-risk", "wholesale"}
)

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}
	count := 200

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("ping: %v", err)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	inserted := 0
	for i := 0; i < count; i++ {
		first := firstNames[rng.Intn(len(firstNames))]
		last := lastNames[rng.Intn(len(lastNames))]
		email := uuid.NewString()[:8] + "@example.com"

		var tags []string
		for _, tag := range tagPool {
			if rng.Float64() < 0.3 {
				tags = append(tags, tag)
			}
		}

		var lastActive *time.Time
		if rng.Float64() < 0.9 {
			t := time.Now().AddDate(0, 0, -rng.Intn(120))
			lastActive = &t
		}

		_, err := db.Exec(`
			INSERT INTO customers (id, email, first_name, last_name, location,
			                       total_spend, visit_count, tags, last_active_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (email) DO NOTHING
		`, uuid.New(), email, first, last, locations[rng.Intn(len(locations))],
			float64(rng.Intn(200000))/100, rng.Intn(60), pq.Array(tags),
			lastActive, time.Now().AddDate(0, 0, -rng.Intn(720)))
		if err != nil {
			log.Fatalf("insert customer: %v", err)
		}
		inserted++
	}

	log.Printf("Seeded %d customers", inserted)
}
