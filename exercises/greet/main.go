package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

func main() {
	fmt.Print("What is your name? ")
	name, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	fmt.Printf("Hi, %s!\n", strings.TrimSpace(name))
}
