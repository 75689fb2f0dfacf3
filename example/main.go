package main

import (
	"fmt"
	"log"

	"logkv"
	"logkv/serial"
)

func main() {
	store, err := logkv.Open[string, string]("./data", serial.String{}, serial.String{}, logkv.WithCreateDir())
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	if err := store.Update("greeting", "hello"); err != nil {
		log.Fatal(err)
	}
	if err := store.Update("name", "logkv"); err != nil {
		log.Fatal(err)
	}
	if err := store.Flush(); err != nil {
		log.Fatal(err)
	}

	if v, ok := store.Get("greeting"); ok {
		fmt.Println("greeting =", v)
	}

	// Compact the log into a snapshot; the next open replays nothing.
	if err := store.Save(logkv.SaveSync); err != nil {
		log.Fatal(err)
	}
	fmt.Println("generation", store.Time(), "with", store.Len(), "keys")
}
