// Package main provides a CLI client for the trading engine daemon.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "Engine server URL")

	submitCmd := flag.NewFlagSet("submit", flag.ExitOnError)
	submitSymbol := submitCmd.String("symbol", "AAPL", "Symbol")
	submitSide := submitCmd.String("side", "buy", "Order side (buy/sell)")
	submitType := submitCmd.String("type", "limit", "Order type (market/limit/stop/stop_limit)")
	submitPrice := submitCmd.String("price", "150.00", "Order price")
	submitQty := submitCmd.String("qty", "100", "Order quantity")
	submitAccount := submitCmd.String("account", "TRADER1", "Account ID")

	cancelCmd := flag.NewFlagSet("cancel", flag.ExitOnError)
	cancelClientID := cancelCmd.Uint64("client-id", 0, "Client order ID to cancel")

	statsCmd := flag.NewFlagSet("stats", flag.ExitOnError)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	flag.Parse()

	switch os.Args[1] {
	case "submit":
		submitCmd.Parse(os.Args[2:])
		submitOrder(*serverURL, *submitSymbol, *submitSide, *submitType, *submitPrice, *submitQty, *submitAccount)

	case "cancel":
		cancelCmd.Parse(os.Args[2:])
		cancelOrder(*serverURL, *cancelClientID)

	case "stats":
		statsCmd.Parse(os.Args[2:])
		getStats(*serverURL)

	case "demo":
		runDemo(*serverURL)

	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Trading Engine Client

Usage:
  client <command> [options]

Commands:
  submit    Submit a new order
  cancel    Cancel an existing order
  stats     View engine statistics
  demo      Run a demonstration

Examples:
  client submit -symbol AAPL -side buy -type limit -price 150.00 -qty 100 -account TRADER1
  client cancel -client-id 123
  client stats
  client demo`)
}

func submitOrder(serverURL, symbol, side, orderType, price, qty, account string) {
	req := map[string]interface{}{
		"symbol":     symbol,
		"side":       side,
		"type":       orderType,
		"price":      price,
		"qty":        qty,
		"account_id": account,
	}

	resp, err := postJSON(serverURL+"/order", req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Printf("Order Response:\n")
	printJSON(resp)
}

func cancelOrder(serverURL string, clientID uint64) {
	url := fmt.Sprintf("%s/cancel?client_id=%d", serverURL, clientID)

	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("Cancel Response:\n")
	printJSONBytes(body)
}

func getStats(serverURL string) {
	resp, err := http.Get(serverURL + "/stats")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("Engine Statistics:\n")
	printJSONBytes(body)
}

func runDemo(serverURL string) {
	fmt.Println("=== Trading Engine Demo ===")

	fmt.Println("\n1. Market maker (MM1) posts buy orders:")
	submitOrder(serverURL, "AAPL", "buy", "limit", "149.00", "100", "MM1")
	submitOrder(serverURL, "AAPL", "buy", "limit", "148.50", "200", "MM1")

	fmt.Println("\n2. Market maker (MM1) posts sell orders:")
	submitOrder(serverURL, "AAPL", "sell", "limit", "151.00", "100", "MM1")
	submitOrder(serverURL, "AAPL", "sell", "limit", "151.50", "200", "MM1")

	fmt.Println("\n3. Trader (TRADER1) buys 100 shares with a market order:")
	submitOrder(serverURL, "AAPL", "buy", "market", "", "100", "TRADER1")

	fmt.Println("\n4. Engine statistics:")
	getStats(serverURL)

	fmt.Println("\n=== Demo Complete ===")
}

func postJSON(url string, data interface{}) (map[string]interface{}, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	resp, err := http.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var result map[string]interface{}
	err = json.Unmarshal(body, &result)
	return result, err
}

func printJSON(data interface{}) {
	jsonBytes, _ := json.MarshalIndent(data, "", "  ")
	fmt.Println(string(jsonBytes))
}

func printJSONBytes(data []byte) {
	var obj interface{}
	json.Unmarshal(data, &obj)
	printJSON(obj)
}
