package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/catalog"
	appconfig "github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/config"
	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/paypal"
	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/pricing"
	postgres "github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/storage/postgres"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "catalogctl",
		Usage: "Inspect, price and seed the checkout catalog",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "Catalog JSON file (default: the embedded catalog)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List products",
				Action: listAction,
			},
			{
				Name:      "price",
				Usage:     "Price a single line offline, without calling PayPal",
				ArgsUsage: "<product-id>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "quantity", Aliases: []string{"q"}, Value: 1, Usage: "Units to buy"},
					&cli.StringFlag{Name: "origin", Usage: "Also print the PayPal order request built for this origin"},
				},
				Action: priceAction,
			},
			{
				Name:   "seed",
				Usage:  "Upsert the catalog into Postgres (CATALOG_DB_* settings)",
				Action: seedAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadCatalog(c *cli.Context) (*catalog.Static, error) {
	if path := c.String("file"); path != "" {
		return catalog.LoadFile(path)
	}
	return catalog.Default()
}

func listAction(c *cli.Context) error {
	cat, err := loadCatalog(c)
	if err != nil {
		return err
	}
	products, err := cat.List(c.Context)
	if err != nil {
		return err
	}
	return writeProducts(c.App.Writer, products)
}

func writeProducts(w io.Writer, products []catalog.Product) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCATEGORY\tPRICE\tSTOCK")
	for _, p := range products {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", p.ID, p.Name, p.Category, p.Price, p.Stock)
	}
	return tw.Flush()
}

func priceAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("price takes exactly one product id")
	}
	cat, err := loadCatalog(c)
	if err != nil {
		return err
	}
	cfg, err := appconfig.Load()
	if err != nil {
		return err
	}

	engine := pricing.NewEngine(cat, cfg.Pricing)
	b, err := engine.Price(c.Context, []pricing.CartLine{{ProductID: c.Args().First(), Quantity: c.Int("quantity")}})
	if err != nil {
		return err
	}

	out := map[string]any{"breakdown": b}
	if origin := c.String("origin"); origin != "" {
		req, err := paypal.BuildOrderRequest(b, origin, paypal.DefaultCallbackPaths)
		if err != nil {
			return err
		}
		out["order_request"] = req
	}
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func seedAction(c *cli.Context) error {
	cat, err := loadCatalog(c)
	if err != nil {
		return err
	}
	cfg, err := appconfig.Load()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	defer cancel()
	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := postgres.NewProductRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return err
	}
	products, err := cat.List(ctx)
	if err != nil {
		return err
	}
	if err := repo.Upsert(ctx, products); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "seeded %d products into %s\n", len(products), cfg.Database)
	return nil
}
