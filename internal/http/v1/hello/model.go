package hello

const defaultName = "World"

// Greeting returns the greeting for name, or for the world when name is empty.
func Greeting(name string) string {
	if name == "" {
		name = defaultName
	}
	return "Hello, " + name + "!"
}
