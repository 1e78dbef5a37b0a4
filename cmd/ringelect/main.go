package main

import (
	"github.com/galdor/go-service/pkg/service"
)

func main() {
	service.Run("ringelect", "a ring vote election peer", NewService())
}
