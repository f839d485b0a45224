package actions

import (
	"github.com/aura-dev/aura/internal/tools"
)

// Register wires every built-in tool into the catalog. The descriptions
// and parameter schemas are planner-facing: they are the only thing the
// LLM sees when choosing a tool, so they spell out defaults and usage
// rules in full sentences.
func Register(c *tools.Catalog) error {
	for _, d := range builtins() {
		if err := c.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func builtins() []*tools.Descriptor {
	return []*tools.Descriptor{
		{
			Name: "write_file",
			Description: "The primary tool for writing files. It can write pre-defined content directly, " +
				"or it can generate code via an AI if a `task_description` is provided instead of `content`. " +
				"It creates directories if needed and overwrites the file if it exists.",
			ParametersSchema: `{
				"type": "object",
				"properties": {
					"path": {
						"type": "string",
						"description": "The path of the file to write to."
					},
					"content": {
						"type": "string",
						"description": "The content to write into the file. For AI-generated code, leave this blank and provide a 'task_description' instead."
					},
					"task_description": {
						"type": "string",
						"description": "A detailed, clear, and specific description of the code to be generated for the file. Use this ONLY when you want the AI to generate code. If used, 'content' should be empty."
					}
				},
				"required": ["path"]
			}`,
			Action:           writeFile,
			RequiredServices: []string{tools.ServiceProjectManager},
			PathParams:       []string{"path"},
			Mutating:         true,
		},
		{
			Name: "append_to_file",
			Description: "Appends content to the end of an existing file. A newline is inserted first when " +
				"the file does not already end with one. Fails if the file does not exist; use 'write_file' to create files.",
			ParametersSchema: `{
				"type": "object",
				"properties": {
					"path": {
						"type": "string",
						"description": "The path of the file to append to."
					},
					"content": {
						"type": "string",
						"description": "The content to append to the file."
					}
				},
				"required": ["path", "content"]
			}`,
			Action:           appendToFile,
			RequiredServices: []string{tools.ServiceProjectManager},
			PathParams:       []string{"path"},
			Mutating:         true,
		},
		{
			Name:        "read_file",
			Description: "Reads and returns the full content of a file in the project workspace.",
			ParametersSchema: `{
				"type": "object",
				"properties": {
					"path": {
						"type": "string",
						"description": "The path of the file to read."
					}
				},
				"required": ["path"]
			}`,
			Action:           readFile,
			RequiredServices: []string{tools.ServiceProjectManager},
			PathParams:       []string{"path"},
			Mutating:         true,
		},
		{
			Name: "list_files",
			Description: "Lists the files and directories inside a directory of the project workspace. " +
				"Directories are suffixed with '/'. Defaults to the project root when no path is given.",
			ParametersSchema: `{
				"type": "object",
				"properties": {
					"path": {
						"type": "string",
						"description": "The directory to list. Defaults to the project root."
					}
				}
			}`,
			Action:           listFiles,
			RequiredServices: []string{tools.ServiceProjectManager},
			PathParams:       []string{"path"},
			Mutating:         true,
		},
		{
			Name:        "create_directory",
			Description: "Creates a new directory (including any missing parents) inside the project workspace.",
			ParametersSchema: `{
				"type": "object",
				"properties": {
					"path": {
						"type": "string",
						"description": "The path of the directory to create."
					}
				},
				"required": ["path"]
			}`,
			Action:           createDirectory,
			RequiredServices: []string{tools.ServiceProjectManager},
			PathParams:       []string{"path"},
			Mutating:         true,
		},
		{
			Name: "create_package_init",
			Description: "Creates an `__init__.py` file in a specified directory to turn it into a Python package. " +
				"It will automatically add a basic docstring.",
			ParametersSchema: `{
				"type": "object",
				"properties": {
					"path": {
						"type": "string",
						"description": "The path to the directory that should be initialized as a Python package."
					}
				},
				"required": ["path"]
			}`,
			Action:           createPackageInit,
			RequiredServices: []string{tools.ServiceProjectManager},
			PathParams:       []string{"path"},
			Mutating:         true,
		},
		{
			Name: "delete_directory",
			Description: "Deletes a directory and everything inside it. Use with care; the deletion is " +
				"not reversible. For single files use 'delete_file'.",
			ParametersSchema: `{
				"type": "object",
				"properties": {
					"path": {
						"type": "string",
						"description": "The path of the directory to delete."
					}
				},
				"required": ["path"]
			}`,
			Action:           deleteDirectory,
			RequiredServices: []string{tools.ServiceProjectManager},
			PathParams:       []string{"path"},
			Mutating:         true,
		},
		{
			Name:        "copy_file",
			Description: "Copies a single file to a new location inside the project workspace, creating destination directories as needed.",
			ParametersSchema: `{
				"type": "object",
				"properties": {
					"source_path": {
						"type": "string",
						"description": "The path of the file to copy."
					},
					"destination_path": {
						"type": "string",
						"description": "The path the copy should be written to."
					}
				},
				"required": ["source_path", "destination_path"]
			}`,
			Action:           copyFile,
			RequiredServices: []string{tools.ServiceProjectManager},
			PathParams:       []string{"source_path", "destination_path"},
			Mutating:         true,
		},
		{
			Name:        "move_file",
			Description: "Moves or renames a single file inside the project workspace, creating destination directories as needed.",
			ParametersSchema: `{
				"type": "object",
				"properties": {
					"source_path": {
						"type": "string",
						"description": "The current path of the file."
					},
					"destination_path": {
						"type": "string",
						"description": "The path the file should be moved to."
					}
				},
				"required": ["source_path", "destination_path"]
			}`,
			Action:           moveFile,
			RequiredServices: []string{tools.ServiceProjectManager},
			PathParams:       []string{"source_path", "destination_path"},
			Mutating:         true,
		},
		{
			Name:        "delete_file",
			Description: "Deletes a single file from the project workspace. For directories use 'delete_directory'.",
			ParametersSchema: `{
				"type": "object",
				"properties": {
					"path": {
						"type": "string",
						"description": "The path of the file to delete."
					}
				},
				"required": ["path"]
			}`,
			Action:           deleteFile,
			RequiredServices: []string{tools.ServiceProjectManager},
			PathParams:       []string{"path"},
			Mutating:         true,
		},
		{
			Name: "add_dependency_to_requirements",
			Description: "The REQUIRED and ONLY tool for managing dependencies. It safely adds one or more " +
				"packages to a requirements.txt file. It creates the file if it doesn't exist and appends the " +
				"dependencies if they are not already present.",
			ParametersSchema: `{
				"type": "object",
				"properties": {
					"dependencies": {
						"type": "array",
						"items": {"type": "string"},
						"description": "A list of Python packages to add, e.g., ['fastapi', 'uvicorn[standard]']"
					},
					"path": {
						"type": "string",
						"description": "The path to the requirements.txt file. Defaults to 'requirements.txt' in the project root."
					}
				},
				"required": ["dependencies"]
			}`,
			Action:           addDependencies,
			RequiredServices: []string{tools.ServiceProjectManager},
			PathParams:       []string{"path"},
			Mutating:         true,
		},
		{
			Name: "run_shell_command",
			Description: "Executes a shell command from the project's root directory. It will automatically " +
				"use the project's virtual environment if `python` or `pip` are called.",
			ParametersSchema: `{
				"type": "object",
				"properties": {
					"command": {
						"type": "string",
						"description": "The shell command to execute. This will be run from the root of the active project. Use forward slashes in paths (e.g., 'venv/Scripts/pip')."
					}
				},
				"required": ["command"]
			}`,
			Action:           runShellCommand,
			RequiredServices: []string{tools.ServiceProjectManager},
			Mutating:         true,
		},
		{
			Name: "request_user_input",
			Description: "Asks the user a clarifying question and waits for their response. Use this when you " +
				"are uncertain about how to proceed or need confirmation for a destructive action.",
			ParametersSchema: `{
				"type": "object",
				"properties": {
					"question": {
						"type": "string",
						"description": "The question to ask the user."
					}
				},
				"required": ["question"]
			}`,
			Action:           requestUserInput,
			RequiredServices: []string{tools.ServiceBus},
		},
		{
			Name: "index_project_context",
			Description: "Scans the project and rebuilds the contextual index used to retrieve relevant " +
				"code while planning and coding. Run this after large structural changes.",
			ParametersSchema: `{
				"type": "object",
				"properties": {
					"path": {
						"type": "string",
						"description": "The path to index. Defaults to the project root."
					}
				}
			}`,
			Action:           indexProjectContext,
			RequiredServices: []string{tools.ServiceVectorContext},
		},
		{
			Name: "add_function_to_file",
			Description: "Adds a function to a Python file. If a function with the same name already exists " +
				"it is replaced in place; otherwise the function is appended. Creates the file when it does not exist.",
			ParametersSchema: `{
				"type": "object",
				"properties": {
					"path": {
						"type": "string",
						"description": "The path of the Python file to modify."
					},
					"function_code": {
						"type": "string",
						"description": "The complete source of the function to add, including the 'def' line and body."
					}
				},
				"required": ["path", "function_code"]
			}`,
			Action:           addFunctionToFile,
			RequiredServices: []string{tools.ServiceProjectManager},
			PathParams:       []string{"path"},
			Mutating:         true,
		},
		{
			Name: "add_class_to_file",
			Description: "Adds a class to a Python file. If a class with the same name already exists it is " +
				"replaced in place; otherwise the class is appended. Creates the file when it does not exist.",
			ParametersSchema: `{
				"type": "object",
				"properties": {
					"path": {
						"type": "string",
						"description": "The path of the Python file to modify."
					},
					"class_code": {
						"type": "string",
						"description": "The complete source of the class to add, including the 'class' line and body."
					}
				},
				"required": ["path", "class_code"]
			}`,
			Action:           addClassToFile,
			RequiredServices: []string{tools.ServiceProjectManager},
			PathParams:       []string{"path"},
			Mutating:         true,
		},
		{
			Name: "add_method_to_class",
			Description: "Adds an empty method stub to an existing class in a Python file. The body is a " +
				"'pass' placeholder; fill it in afterwards with 'replace_method_in_class' or 'append_to_function'.",
			ParametersSchema: `{
				"type": "object",
				"properties": {
					"path": {
						"type": "string",
						"description": "The path of the Python file containing the class."
					},
					"class_name": {
						"type": "string",
						"description": "The name of the class to add the method to."
					},
					"name": {
						"type": "string",
						"description": "The name of the new method."
					},
					"args": {
						"type": "array",
						"items": {"type": "string"},
						"description": "The method arguments after 'self', e.g. ['path', 'content']."
					},
					"is_async": {
						"type": "boolean",
						"description": "Whether the method should be declared 'async def'."
					}
				},
				"required": ["path", "class_name", "name"]
			}`,
			Action:           addMethodToClass,
			RequiredServices: []string{tools.ServiceProjectManager},
			PathParams:       []string{"path"},
			Mutating:         true,
		},
		{
			Name: "add_import",
			Description: "Adds an import statement to the top of a Python file, after any existing imports. " +
				"Plain 'import module' and 'from module import names' forms are both supported; imports that are " +
				"already satisfied are left untouched.",
			ParametersSchema: `{
				"type": "object",
				"properties": {
					"path": {
						"type": "string",
						"description": "The path of the Python file to modify."
					},
					"module": {
						"type": "string",
						"description": "The module to import, e.g. 'os' or 'fastapi'."
					},
					"names": {
						"type": "array",
						"items": {"type": "string"},
						"description": "Optional names for a 'from module import names' statement, e.g. ['FastAPI', 'Depends']."
					}
				},
				"required": ["path", "module"]
			}`,
			Action:           addImport,
			RequiredServices: []string{tools.ServiceProjectManager},
			PathParams:       []string{"path"},
			Mutating:         true,
		},
		{
			Name: "add_parameter_to_function",
			Description: "Adds a parameter to an existing function or method in a Python file. Parameters " +
				"with a default value are placed after the existing defaulted parameters.",
			ParametersSchema: `{
				"type": "object",
				"properties": {
					"path": {
						"type": "string",
						"description": "The path of the Python file containing the function."
					},
					"function_name": {
						"type": "string",
						"description": "The name of the function or method to modify."
					},
					"parameter_name": {
						"type": "string",
						"description": "The name of the parameter to add."
					},
					"parameter_type": {
						"type": "string",
						"description": "An optional type annotation for the parameter, e.g. 'str' or 'int | None'."
					},
					"default_value": {
						"type": "string",
						"description": "An optional default value rendered verbatim, e.g. 'None' or '\"utf-8\"'."
					}
				},
				"required": ["path", "function_name", "parameter_name"]
			}`,
			Action:           addParameterToFunction,
			RequiredServices: []string{tools.ServiceProjectManager},
			PathParams:       []string{"path"},
			Mutating:         true,
		},
		{
			Name:        "add_attribute_to_init",
			Description: "Adds a 'self.<name> = <value>' assignment to the __init__ method of a class, creating __init__ when the class has none.",
			ParametersSchema: `{
				"type": "object",
				"properties": {
					"path": {
						"type": "string",
						"description": "The path of the Python file containing the class."
					},
					"class_name": {
						"type": "string",
						"description": "The name of the class to modify."
					},
					"attribute_name": {
						"type": "string",
						"description": "The attribute name to assign on self."
					},
					"default_value": {
						"type": "string",
						"description": "The value to assign, rendered verbatim, e.g. 'None' or '[]'."
					}
				},
				"required": ["path", "class_name", "attribute_name", "default_value"]
			}`,
			Action:           addAttributeToInit,
			RequiredServices: []string{tools.ServiceProjectManager},
			PathParams:       []string{"path"},
			Mutating:         true,
		},
		{
			Name:        "add_decorator_to_function",
			Description: "Adds a decorator line immediately above a function or method definition in a Python file.",
			ParametersSchema: `{
				"type": "object",
				"properties": {
					"path": {
						"type": "string",
						"description": "The path of the Python file containing the function."
					},
					"function_name": {
						"type": "string",
						"description": "The name of the function or method to decorate."
					},
					"decorator_code": {
						"type": "string",
						"description": "The complete decorator line starting with '@', e.g. '@app.get(\"/\")'."
					}
				},
				"required": ["path", "function_name", "decorator_code"]
			}`,
			Action:           addDecoratorToFunction,
			RequiredServices: []string{tools.ServiceProjectManager},
			PathParams:       []string{"path"},
			Mutating:         true,
		},
		{
			Name: "rename_symbol_in_file",
			Description: "Renames every occurrence of a symbol (function, class, variable or parameter name) " +
				"throughout a single Python file.",
			ParametersSchema: `{
				"type": "object",
				"properties": {
					"path": {
						"type": "string",
						"description": "The path of the Python file to modify."
					},
					"old_name": {
						"type": "string",
						"description": "The current name of the symbol."
					},
					"new_name": {
						"type": "string",
						"description": "The new name for the symbol."
					}
				},
				"required": ["path", "old_name", "new_name"]
			}`,
			Action:           renameSymbolInFile,
			RequiredServices: []string{tools.ServiceProjectManager},
			PathParams:       []string{"path"},
			Mutating:         true,
		},
		{
			Name: "append_to_function",
			Description: "Appends statements to the body of an existing function in a Python file. Code is " +
				"inserted before a trailing 'return' statement when the function ends with one.",
			ParametersSchema: `{
				"type": "object",
				"properties": {
					"path": {
						"type": "string",
						"description": "The path of the Python file containing the function."
					},
					"function_name": {
						"type": "string",
						"description": "The name of the function to extend."
					},
					"code_to_append": {
						"type": "string",
						"description": "The statements to append to the function body."
					}
				},
				"required": ["path", "function_name", "code_to_append"]
			}`,
			Action:           appendToFunction,
			RequiredServices: []string{tools.ServiceProjectManager},
			PathParams:       []string{"path"},
			Mutating:         true,
		},
		{
			Name: "replace_node_in_file",
			Description: "Replaces an entire top-level function or class in a Python file with new code. The " +
				"name of the definition in 'new_code' must match 'node_name'.",
			ParametersSchema: `{
				"type": "object",
				"properties": {
					"path": {
						"type": "string",
						"description": "The path of the Python file to modify."
					},
					"node_name": {
						"type": "string",
						"description": "The name of the top-level function or class to replace."
					},
					"new_code": {
						"type": "string",
						"description": "The complete new source for the definition."
					}
				},
				"required": ["path", "node_name", "new_code"]
			}`,
			Action:           replaceNodeInFile,
			RequiredServices: []string{tools.ServiceProjectManager},
			PathParams:       []string{"path"},
			Mutating:         true,
		},
		{
			Name: "replace_method_in_class",
			Description: "Replaces a single method inside a class in a Python file with new code, preserving " +
				"the class's indentation. The method name in 'new_code' must match 'method_name'.",
			ParametersSchema: `{
				"type": "object",
				"properties": {
					"path": {
						"type": "string",
						"description": "The path of the Python file containing the class."
					},
					"class_name": {
						"type": "string",
						"description": "The name of the class containing the method."
					},
					"method_name": {
						"type": "string",
						"description": "The name of the method to replace."
					},
					"new_code": {
						"type": "string",
						"description": "The complete new source for the method."
					}
				},
				"required": ["path", "class_name", "method_name", "new_code"]
			}`,
			Action:           replaceMethodInClass,
			RequiredServices: []string{tools.ServiceProjectManager},
			PathParams:       []string{"path"},
			Mutating:         true,
		},
		{
			Name: "create_new_tool",
			Description: "Meta-Tool: Creates a new, fully functional tool for Aura by generating BOTH a " +
				"manifest file and its corresponding action script under the project's .aura/tools directory. " +
				"The new tool is loaded automatically and becomes available to later tasks.",
			ParametersSchema: `{
				"type": "object",
				"properties": {
					"tool_name": {
						"type": "string",
						"description": "The unique ID for the new tool (e.g., 'rename_file')."
					},
					"description": {
						"type": "string",
						"description": "A clear, user-facing description of what the new tool does."
					},
					"tool_parameters": {
						"type": "array",
						"description": "A list of parameter objects for the new tool. Each object should have 'name', 'type', and 'description' keys.",
						"items": {
							"type": "object",
							"properties": {
								"name": {"type": "string", "description": "The parameter name."},
								"type": {"type": "string", "description": "The JSON schema type (e.g., 'string', 'integer')."},
								"description": {"type": "string", "description": "The parameter description."}
							},
							"required": ["name", "type", "description"]
						}
					},
					"action_code": {
						"type": "string",
						"description": "A string containing the complete Python code for the action script, including necessary imports. The script receives the tool arguments as JSON on stdin and prints its result to stdout."
					}
				},
				"required": ["tool_name", "description", "tool_parameters", "action_code"]
			}`,
			Action:           createNewTool,
			RequiredServices: []string{tools.ServiceProjectManager},
		},
	}
}
