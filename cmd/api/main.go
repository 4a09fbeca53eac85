package main

import (
	"github.com/ecomlabs/order-pipeline/internal/app"
	"github.com/ecomlabs/order-pipeline/internal/config"
)

func main() {
	config.MustInit()
	app.MustNewAPIApp().Run()
}
