package main

//go:generate swag init -g cmd/marketd/main.go -o docs

// @title           Raffle Markets API
// @version         0.1.0
// @description     On-chain raffle watching, market reconciliation, pricing and trading.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
