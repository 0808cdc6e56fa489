package main

import "fmt"

// Sum returns the sum of a and b.
func Sum(a, b int) int {
	return 0
}

func main() {
	fmt.Println(Sum(2, 3))
}
