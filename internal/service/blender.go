package service

const (
	backgroundFlag = "-b"
	pythonExprFlag = "--python-expr"
	renderAllFlag  = "-a"

	// ProbeExpr makes the renderer print the scene frame range and exit.
	ProbeExpr = `import bpy; print("FRAMERANGE:"+str(bpy.context.scene.frame_start)+"-"+str(bpy.context.scene.frame_end))`
)

// Invocation builds renderer arguments for the two phases of a job.
type Invocation interface {
	// Probe loads the document and prints its frame range declaration.
	Probe(path string) []string
	// Render renders all frames of the document.
	Render(path string) []string
}

// Blender is the command line protocol of blender in background mode.
type Blender struct{}

func (Blender) Probe(path string) []string {
	return []string{backgroundFlag, path, pythonExprFlag, ProbeExpr}
}

func (Blender) Render(path string) []string {
	return []string{backgroundFlag, path, renderAllFlag}
}
