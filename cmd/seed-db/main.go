package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/InnokentiyKim/Retail/internal/domain/auth"
	"github.com/InnokentiyKim/Retail/internal/domain/coupon"
	"github.com/InnokentiyKim/Retail/internal/handler"
	"github.com/InnokentiyKim/Retail/internal/storage/postgres"
)

type catalogJSON struct {
	Users []struct {
		Email    string `json:"email"`
		FullName string `json:"full_name"`
		Role     string `json:"role"`
		APIKey   string `json:"api_key"`
	} `json:"users"`
	Shops []struct {
		Name   string `json:"name"`
		Owner  string `json:"owner"`
		Active bool   `json:"active"`
		Stock  []struct {
			Product     string              `json:"product"`
			Category    string              `json:"category"`
			Quantity    int                 `json:"quantity"`
			Price       decimal.Decimal     `json:"price"`
			RetailPrice decimal.NullDecimal `json:"retail_price"`
		} `json:"stock"`
	} `json:"shops"`
	Coupons []struct {
		Code      string    `json:"code"`
		Discount  int       `json:"discount"`
		ValidFrom time.Time `json:"valid_from"`
		ValidTo   time.Time `json:"valid_to"`
	} `json:"coupons"`
}

func main() {
	var (
		databaseURL  string
		catalogFile  string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to the demo catalog JSON file")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or RETAIL_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("RETAIL_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogFile, []byte(apiKeyPepper)); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile string, pepper []byte) error {
	slog.Info("reading catalog file", slog.String("path", catalogFile))
	data, err := os.ReadFile(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}
	var catalog catalogJSON
	if err := json.Unmarshal(data, &catalog); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	seeder := postgres.NewSeeder(pool)
	users, err := seedUsers(ctx, seeder, postgres.NewAPIKeyRepository(pool), &catalog, pepper)
	if err != nil {
		return errors.Wrap(err, "seed users")
	}
	if err := seedShops(ctx, seeder, &catalog, users); err != nil {
		return errors.Wrap(err, "seed shops")
	}
	if err := seedCoupons(ctx, postgres.NewCouponRepository(pool), &catalog); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	return nil
}

func seedUsers(ctx context.Context, seeder *postgres.Seeder, keys *postgres.APIKeyRepository, catalog *catalogJSON, pepper []byte) (map[string]int64, error) {
	ids := make(map[string]int64, len(catalog.Users))
	for _, u := range catalog.Users {
		role := auth.Role(u.Role)
		if !role.Valid() {
			return nil, errors.Errorf("user %s: unknown role %q", u.Email, u.Role)
		}
		id, err := seeder.User(ctx, u.Email, u.FullName, role)
		if err != nil {
			return nil, errors.Wrapf(err, "upsert user %s", u.Email)
		}
		ids[u.Email] = id

		if u.APIKey == "" {
			continue
		}
		if err := keys.Upsert(ctx, auth.APIKeyInfo{
			ID:      "seed-" + u.Email,
			KeyHash: handler.HashKey(u.APIKey, pepper),
			Name:    "Demo key of " + u.FullName,
			UserID:  id,
			Role:    role,
		}); err != nil {
			return nil, errors.Wrapf(err, "upsert api key of %s", u.Email)
		}
		slog.Info("upserted user", slog.String("email", u.Email), slog.String("role", u.Role))
	}
	return ids, nil
}

func seedShops(ctx context.Context, seeder *postgres.Seeder, catalog *catalogJSON, users map[string]int64) error {
	products := make(map[string]int64)
	for _, s := range catalog.Shops {
		owner, ok := users[s.Owner]
		if !ok {
			return errors.Errorf("shop %s: unknown owner %s", s.Name, s.Owner)
		}
		shopID, err := seeder.Shop(ctx, s.Name, owner, s.Active)
		if err != nil {
			return errors.Wrapf(err, "upsert shop %s", s.Name)
		}

		for _, st := range s.Stock {
			productID, ok := products[st.Product]
			if !ok {
				if productID, err = seeder.Product(ctx, st.Product, st.Category); err != nil {
					return errors.Wrapf(err, "upsert product %s", st.Product)
				}
				products[st.Product] = productID
			}
			if _, err := seeder.StockUnit(ctx, productID, shopID, st.Quantity, st.Price, st.RetailPrice); err != nil {
				return errors.Wrapf(err, "upsert stock of %s in %s", st.Product, s.Name)
			}
		}
		slog.Info("upserted shop", slog.String("name", s.Name), slog.Int("stock_units", len(s.Stock)))
	}
	return nil
}

func seedCoupons(ctx context.Context, repo *postgres.CouponRepository, catalog *catalogJSON) error {
	coupons := make([]coupon.Coupon, 0, len(catalog.Coupons))
	for _, c := range catalog.Coupons {
		cp := coupon.Coupon{
			Code:      c.Code,
			Discount:  c.Discount,
			ValidFrom: c.ValidFrom,
			ValidTo:   c.ValidTo,
			Active:    true,
		}
		if err := cp.Check(); err != nil {
			return errors.Wrapf(err, "coupon %s", c.Code)
		}
		coupons = append(coupons, cp)
	}
	if err := repo.UpsertBatch(ctx, coupons); err != nil {
		return errors.Wrap(err, "upsert coupons")
	}
	slog.Info("upserted coupons", slog.Int("count", len(coupons)))
	return nil
}
