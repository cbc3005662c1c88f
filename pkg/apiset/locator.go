package apiset

import "github.com/carved4/go-ldr/pkg/peb"

// ProcessLocator reads the namespace pointer out of the current process
// environment block on every call.
func ProcessLocator() Locator {
	return LocatorFunc(peb.ApiSetMap)
}
