package room

// demoFiles seeds rooms that are not linked to a persisted project.
var demoFiles = map[string]string{
	"index.html": `<!DOCTYPE html>
<html>
<head>
  <title>Collaborative Workspace</title>
  <link rel="stylesheet" href="style.css">
</head>
<body>
  <h1>Hello, collaborators!</h1>
  <script src="main.js"></script>
</body>
</html>
`,
	"style.css": `body {
  font-family: sans-serif;
  margin: 2rem;
}
`,
	"main.js": `console.log("Hello from the shared workspace");
`,
	"README.md": `# Workspace

Everyone in this room sees edits as they happen.
`,
	"src/utils.js": `export function greet(name) {
  return "Hello, " + name;
}
`,
}

func (r *Room) seedDemo() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for p, content := range demoFiles {
		r.files[p] = &File{Path: p, Content: content, Version: 1, LastModifiedAt: r.now()}
		r.addParentsLocked(p)
	}
}
